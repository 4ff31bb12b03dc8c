package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyValue は、空であってはならない値が空だったことを示します。
var ErrEmptyValue = errors.New("値が空です")

// Validator は設定値を検証する関数です。
type Validator func(value string) error

// NonEmptyValidator は空白のみの値を拒否します。
func NonEmptyValidator(value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrEmptyValue
	}
	return nil
}

// PropertyDescriptor は、ステージが宣言する設定オプションを表します。
type PropertyDescriptor struct {
	Name        string
	Description string
	Required    bool
	Validators  []Validator
}

// Validate は値を検証します。必須でない空の値は検証をスキップします。
func (d PropertyDescriptor) Validate(value string) error {
	if value == "" && !d.Required {
		return nil
	}
	for _, v := range d.Validators {
		if err := v(value); err != nil {
			return fmt.Errorf("プロパティ '%s' の検証に失敗しました: %w", d.Name, err)
		}
	}
	return nil
}
