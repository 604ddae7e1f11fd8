package handler

import (
	"github.com/damoang/angple-chat/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

// bindAndValidate decodes the JSON body into req and checks its
// `validate` tags; every failure is a validation error
func bindAndValidate(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return common.Validationf("요청 형식이 올바르지 않습니다: %v", err)
	}
	if err := requestValidator.Struct(req); err != nil {
		return common.Validationf("%v", err)
	}
	return nil
}
