// Package validation holds the declarative input schemas shared by the
// account, store and rating services. Each schema is a struct whose fields
// carry go-playground/validator rules in the `validate` tag and the message
// returned to clients in the `msg` tag.
package validation

import (
	stderrors "errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/errors"
)

// PasswordSymbols is the punctuation set a password must draw at least one character from.
const PasswordSymbols = "!@#$%^&*"

var (
	passwordAlphabet = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*]{8,16}$`)
	passwordUpper    = regexp.MustCompile(`[A-Z]`)
)

// UserSchema validates registration and admin user creation.
type UserSchema struct {
	Name     string `json:"name" validate:"min=20,max=60" msg:"Name must be between 20-60 characters"`
	Email    string `json:"email" validate:"required,email,max=255" msg:"Invalid email format"`
	Password string `json:"password" validate:"password" msg:"Password must be 8-16 characters with uppercase and special character"`
	Address  string `json:"address" validate:"max=400" msg:"Address must be max 400 characters"`
	Role     string `json:"role" validate:"omitempty,role" msg:"Role must be one of admin, normal, store_owner"`
}

// StoreSchema validates store creation on both the owner and admin paths.
type StoreSchema struct {
	Name    string `json:"name" validate:"min=20,max=60" msg:"Store name must be between 20-60 characters"`
	Email   string `json:"email" validate:"required,email,max=255" msg:"Invalid email format"`
	Address string `json:"address" validate:"max=400" msg:"Address must be max 400 characters"`
}

// PasswordSchema validates a password change.
type PasswordSchema struct {
	Password string `json:"password" validate:"password" msg:"Password must be 8-16 characters with uppercase and special character"`
}

// RatingSchema validates a rating submission.
type RatingSchema struct {
	Rating int    `json:"rating" validate:"min=1,max=5" msg:"Rating must be between 1 and 5"`
	Review string `json:"review" validate:"max=2000" msg:"Review must be max 2000 characters"`
}

// LoginSchema only checks presence; credential mismatches are reported uniformly elsewhere.
type LoginSchema struct {
	Email    string `json:"email" validate:"required" msg:"Email and password are required"`
	Password string `json:"password" validate:"required" msg:"Email and password are required"`
}

var (
	once     sync.Once
	instance *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
			return ValidPassword(fl.Field().String())
		})
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			_, err := user.ParseRole(fl.Field().String())
			return err == nil
		})
		instance = v
	})
	return instance
}

// ValidPassword applies the password policy: 8-16 characters from letters,
// digits and PasswordSymbols, with at least one uppercase letter and one symbol.
func ValidPassword(password string) bool {
	return passwordAlphabet.MatchString(password) &&
		passwordUpper.MatchString(password) &&
		strings.ContainsAny(password, PasswordSymbols)
}

// Check validates schema and returns a validation ServiceError whose details
// map every failing field to its message. schema must be a struct or a
// pointer to one.
func Check(schema interface{}) error {
	err := engine().Struct(schema)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Internal("", err)
	}

	typ := reflect.TypeOf(schema)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	fields := make(map[string]string, len(fieldErrs))
	var first string
	for _, fe := range fieldErrs {
		msg := messageFor(typ, fe)
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = msg
		}
		if first == "" {
			first = msg
		}
	}
	return errors.Validation(first, fields)
}

func messageFor(typ reflect.Type, fe validator.FieldError) string {
	if sf, ok := typ.FieldByName(fe.StructField()); ok {
		if msg := sf.Tag.Get("msg"); msg != "" {
			return msg
		}
	}
	return fe.Field() + " failed " + fe.Tag() + " validation"
}
