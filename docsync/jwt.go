package docsync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// BootstrapJwt carries the per-page session values.
// The page that delivers the token is the trust anchor, so the signature is not verified here.
type BootstrapJwt struct {
	InstanceId string
	WsUrl      string
	Lossless   *bool
}

func ParseBootstrapJwtUnverified(jwt string) (*BootstrapJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	bootstrapJwt := &BootstrapJwt{}

	if instanceId, ok := claims["instance_id"].(string); ok {
		bootstrapJwt.InstanceId = instanceId
	}
	if wsUrl, ok := claims["ws_url"].(string); ok {
		bootstrapJwt.WsUrl = wsUrl
	}
	if lossless, ok := claims["lossless"].(bool); ok {
		bootstrapJwt.Lossless = &lossless
	}

	return bootstrapJwt, nil
}

// Apply overlays the token values that are set.
func (self *BootstrapJwt) Apply(bootstrap *Bootstrap) {
	if self.InstanceId != "" {
		bootstrap.InstanceId = self.InstanceId
	}
	if self.WsUrl != "" {
		bootstrap.WsUrl = self.WsUrl
	}
	if self.Lossless != nil {
		bootstrap.Lossless = *self.Lossless
	}
}
