// Package validation checks step definitions and component configuration.
//
// Struct tag validation covers shape (required fields, ranges, enums) using
// go-playground/validator; the Validator collects errors for checks that span
// fields or steps. Both report an INVALID_CONFIG errors.AppError whose
// "fields" detail lists every failing field.
//
//	type LimitConfig struct {
//	    Count int `mapstructure:"count" validate:"gte=0"`
//	}
//	err := validation.Validate(cfg)
package validation
