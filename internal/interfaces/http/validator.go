package http

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	MaxMessageLength = 4096
	MaxNameLength    = 256
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindJSON decodes the body into dst and runs its validate tags. On failure
// it writes a 400 and returns false. The body stays readable for a second
// bind.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindBodyWith(dst, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fieldErrors(err)})
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		key := fe.Field()
		if ns := fe.Namespace(); strings.Count(ns, ".") > 1 {
			key = ns[strings.Index(ns, ".")+1:]
		}
		if fe.Param() != "" {
			out[key] = fe.Tag() + "=" + fe.Param()
		} else {
			out[key] = fe.Tag()
		}
	}
	return out
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := utf8.RuneCountInString(s)
	return l >= min && l <= max
}
