package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"latecomers/internal/ledger"
)

const rollNumberTag = "rollnumber"

var registerOnce sync.Once

// registerValidators adds the rollnumber tag to gin's binding validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation(rollNumberTag, rollNumberValidation)
	})
}

func rollNumberValidation(fl validator.FieldLevel) bool {
	return ledger.ValidateRollNumber(fl.Field().String()) == nil
}
