package flip

import (
	"net/url"

	"github.com/go-playground/validator/v10"
)

// ResourceURLTag validates absolute http(s) URLs with a host. It is registered
// on the shared validator so request structs can use it too.
const ResourceURLTag = "resource_url"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation(ResourceURLTag, isResourceURL)

	return v
}

// Validator returns the validator with the flip tags registered.
func Validator() *validator.Validate {
	return validate
}

func isResourceURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// ValidateURL checks a resource URL before any I/O is attempted.
func ValidateURL(raw string) error {
	if err := validate.Var(raw, "required"); err != nil {
		return &InvalidURLError{URL: raw, Reason: "url is empty", Err: err}
	}

	if err := validate.Var(raw, ResourceURLTag); err != nil {
		return &InvalidURLError{URL: raw, Reason: "must be an absolute http or https url with a host", Err: err}
	}

	return nil
}
