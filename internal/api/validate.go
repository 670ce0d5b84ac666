package api

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// GetJSONTagName extracts the JSON field name from the "json" key in a
// struct tag. Returns an empty string if no "json" key is present, or if
// the value is "-".
func GetJSONTagName(tag reflect.StructTag) string {
	tagValue := tag.Get("json")
	if tagValue == "-" {
		return ""
	}
	fieldName, _, _ := strings.Cut(tagValue, ",")
	return fieldName
}

// NewValidator returns a validator configured for request payloads.
// Validation errors carry JSON field names so they can be surfaced to
// callers verbatim.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return GetJSONTagName(field.Tag)
	})

	err := validate.RegisterValidation("cloud", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			panic("String type required for cloud")
		}
		_, err := ParseCloud(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(err)
	}

	return validate
}
