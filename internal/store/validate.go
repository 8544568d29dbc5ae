package store

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateNewMessage checks a message before anything is persisted.
func ValidateNewMessage(msg NewMessage) error {
	if err := validate.Struct(msg); err != nil {
		return translate(err)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateUserID checks that id is a well-formed user identifier.
func ValidateUserID(id string) error {
	if err := validate.Var(id, "required,uuid"); err != nil {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateProfile checks a profile before an upsert.
func ValidateProfile(p *Profile) error {
	if p == nil {
		return ErrInvalidUser
	}
	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && fieldErrs[0].Field() == "ID" {
			return ErrInvalidUserID
		}
		return ErrInvalidUser
	}
	return nil
}

// translate maps the first failing field onto the error taxonomy.
func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ErrValidation
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "SenderID", "ReceiverID":
		if fe.Tag() == "nefield" {
			return ErrSelfMessage
		}
		return ErrInvalidUserID
	case "Text":
		return ErrEmptyText
	case "ItemID":
		return ErrInvalidItemID
	}
	return ErrValidation
}
