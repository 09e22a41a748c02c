package oidc

// Claims 是登入後從 ID token 取出的使用者資料
// 參考 https://openid.net/specs/openid-connect-core-1_0.html#StandardClaims
type Claims struct {
	Issuer            string `json:"iss"`
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Nonce             string `json:"nonce"`
}

// DisplayName 依序使用 preferred_username、name、email、sub
func (c Claims) DisplayName() string {
	for _, v := range []string{c.PreferredUsername, c.Name, c.Email} {
		if v != "" {
			return v
		}
	}
	return c.Subject
}
