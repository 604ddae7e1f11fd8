package ginutil

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt extracts a non-negative integer query parameter.
// ok is false when the parameter is absent.
func QueryInt(c *gin.Context, key string) (value int, ok bool, err error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false, nil
	}
	value, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, err
	}
	if value < 0 {
		return 0, true, strconv.ErrRange
	}
	return value, true, nil
}

// QueryFloat extracts a non-negative float form or query value
func QueryFloat(c *gin.Context, key string) (value float64, ok bool, err error) {
	raw := c.Request.FormValue(key)
	if raw == "" {
		return 0, false, nil
	}
	value, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, err
	}
	if value < 0 {
		return 0, true, strconv.ErrRange
	}
	return value, true, nil
}
