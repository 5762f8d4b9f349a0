package dynconf

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Binder decodes a mapped attribute tree into a typed snapshot struct and
// validates the result.
//
// Two-stage processing:
//  1. Decode: converts the attribute map to the typed struct using
//     mapstructure with weak typing, so numeric strings and "5s"
//     durations coming from loosely-typed remote content still land in
//     their typed fields.
//  2. Validate: checks the whole candidate snapshot against `validate`
//     struct tags before it is ever published.
//
// Snapshot struct fields use `config` tags for attribute mapping and
// `validate` tags for rules. Nested structs nest: an Attr dot path of
// "jwt.expiry" reaches a `config:"jwt"` struct's `config:"expiry"` field.
//
//	type AppConfig struct {
//	    LogLevel string    `config:"log_level" validate:"oneof=DEBUG INFO WARNING ERROR"`
//	    JWT      JWTConfig `config:"jwt"`
//	}
type Binder struct {
	validator *validator.Validate
}

// BindError reports which stage of snapshot binding failed.
//
// Callers can distinguish decode errors (remote data of the wrong shape)
// from validation errors (a structurally fine but invalid candidate).
// Both leave the previous snapshot active, but they are logged
// differently.
type BindError struct {
	// Stage is "decode" or "validate".
	Stage string

	// Err is the underlying error from mapstructure or validator.
	Err error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("snapshot %s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *BindError) Unwrap() error {
	return e.Err
}

// NewBinder creates a Binder with default decode hooks and validators:
// string to time.Duration ("5s"), comma-separated string to slice, weak
// type conversion, and the standard go-playground/validator rule set.
func NewBinder() *Binder {
	return &Binder{
		validator: validator.New(),
	}
}

// Bind decodes the attribute map into target (a pointer to the snapshot
// struct) and validates it. On failure target must be discarded: a decode
// error can leave it partially populated.
func (b *Binder) Bind(attrs map[string]any, target any) error {
	if err := b.decode(attrs, target); err != nil {
		return &BindError{
			Stage: "decode",
			Err:   err,
		}
	}

	if err := b.validate(target); err != nil {
		return &BindError{
			Stage: "validate",
			Err:   err,
		}
	}

	return nil
}

func (b *Binder) decode(attrs map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		TagName: "config",
	})
	if err != nil {
		return err
	}

	return decoder.Decode(attrs)
}

func (b *Binder) validate(target any) error {
	return b.validator.Struct(target)
}
