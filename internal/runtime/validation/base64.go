package validation

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

// DecodeBase64JSON decodes a base64= prefixed param holding a JSON document into v.
func DecodeBase64JSON(s string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, Base64Prefix))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	if err := jsoncodec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("base64 json: %w", err)
	}
	return nil
}

// EncodeBase64JSON is the inverse of DecodeBase64JSON.
func EncodeBase64JSON(v any) (string, error) {
	raw, err := jsoncodec.Marshal(v)
	if err != nil {
		return "", err
	}
	return Base64Prefix + base64.StdEncoding.EncodeToString(raw), nil
}
