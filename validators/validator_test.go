package validators

import (
	"errors"
	"net/http"
	"testing"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestValidator_PushTokenRequest(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		req     models.RegisterPushTokenRequest
		wantErr bool
	}{
		{name: "valid", req: models.RegisterPushTokenRequest{Token: "fcm-token-abc", Platform: "android"}},
		{name: "simulator", req: models.RegisterPushTokenRequest{Token: "sim-token-abc", Platform: "ios", IsSimulator: true}},
		{name: "missing token", req: models.RegisterPushTokenRequest{Platform: "ios"}, wantErr: true},
		{name: "short token", req: models.RegisterPushTokenRequest{Token: "abc", Platform: "ios"}, wantErr: true},
		{name: "unknown platform", req: models.RegisterPushTokenRequest{Token: "fcm-token-abc", Platform: "symbian"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var he *echo.HTTPError
			if assert.True(t, errors.As(err, &he)) {
				assert.Equal(t, http.StatusBadRequest, he.Code)
			}
		})
	}
}
