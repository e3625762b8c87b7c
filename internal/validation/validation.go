/*
 * Copyright 2026 The Titlekit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package validation provides the validation functions for values sent to
// the title service.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/titlekit-team/titlekit/api/types"
)

// statNameRegexString matches the naming convention the title service
// enforces for stats and social groups.
const statNameRegexString = `^[a-zA-Z0-9\-._]+$`

var statNameRegex = regexp.MustCompile(statNameRegexString)

var (
	// statNameTag validates a stat or group name: non-empty, service naming
	// convention, at most types.MaxStatNameLen characters.
	statNameTag = fmt.Sprintf("required,statname,max=%d", types.MaxStatNameLen)

	// statStringTag validates a textual stat value.
	statStringTag = fmt.Sprintf("max=%d", types.MaxStatStringLen)
)

var (
	// defaultValidator checks the stat names and values the host program
	// provides before they reach the service.
	defaultValidator = validator.New()

	// defaultEn backs the translator; violation messages are rendered for
	// the 'en' locale only.
	defaultEn = en.New()
	uni       = ut.New(defaultEn, defaultEn)
	trans, _  = uni.GetTranslator(defaultEn.Locale())
)

// Violation is the error returned by the validation.
type Violation struct {
	Tag         string
	Field       string
	Err         error
	Description string
}

// Error returns the error message.
func (e Violation) Error() string {
	return e.Err.Error()
}

// StructError is the error returned by the validation of struct.
type StructError struct {
	Violations []Violation
}

// Error returns the error message.
func (s StructError) Error() string {
	sb := strings.Builder{}

	for _, v := range s.Violations {
		sb.WriteString(v.Error())
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

// ValidateValue validates the value with the tag.
func ValidateValue(v interface{}, tag string) error {
	if err := defaultValidator.Var(v, tag); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			return Violation{
				Tag:         e.Tag(),
				Err:         e,
				Description: e.Translate(trans),
			}
		}
	}
	return nil
}

// ValidateStruct validates the struct with the tags of its fields.
func ValidateStruct(s interface{}) error {
	if err := defaultValidator.Struct(s); err != nil {
		structError := &StructError{}
		for _, e := range err.(validator.ValidationErrors) {
			structError.Violations = append(structError.Violations, Violation{
				Tag:         e.Tag(),
				Field:       e.StructField(),
				Err:         e,
				Description: e.Translate(trans),
			})
		}
		return structError
	}

	return nil
}

// ValidateStatName validates a name that identifies a stat or a social
// group on the title service.
func ValidateStatName(name string) error {
	return ValidateValue(name, statNameTag)
}

// ValidateStatString validates a textual stat value.
func ValidateStatString(v string) error {
	return ValidateValue(v, statStringTag)
}

// mustRegisterRule wires a custom tag and its translated message into the
// default validator. Registration fails only on programming errors.
func mustRegisterRule(tag, msg string, fn validator.Func) {
	if err := defaultValidator.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Errorf("register %s rule: %w", tag, err))
	}

	if err := defaultValidator.RegisterTranslation(
		tag,
		trans,
		func(ut ut.Translator) error {
			if err := ut.Add(tag, msg, true); err != nil {
				return fmt.Errorf("add %s translation: %w", tag, err)
			}
			return nil
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	); err != nil {
		panic(fmt.Errorf("register %s translation: %w", tag, err))
	}
}

func init() {
	if err := entranslations.RegisterDefaultTranslations(defaultValidator, trans); err != nil {
		panic(fmt.Errorf("register default translations: %w", err))
	}

	mustRegisterRule(
		"statname",
		"{0} must only contain letters, numbers, hyphen, period, and underscore",
		func(level validator.FieldLevel) bool {
			return statNameRegex.MatchString(level.Field().String())
		},
	)
}
