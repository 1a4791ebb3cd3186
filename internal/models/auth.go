package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the payload of bearer tokens issued by the LMS bridge.
type JWTClaims struct {
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username"`
	SiteAdmin bool    `json:"site_admin"`
	Courses   []int64 `json:"courses"`
	jwt.RegisteredClaims
}

// ManagesCourse reports whether the token grants the analytics capability on courseID.
func (c *JWTClaims) ManagesCourse(courseID int64) bool {
	if c == nil {
		return false
	}
	if c.SiteAdmin {
		return true
	}
	for _, id := range c.Courses {
		if id == courseID {
			return true
		}
	}
	return false
}
