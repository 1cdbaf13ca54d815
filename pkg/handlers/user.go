package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jkuri/clef/pkg/auth"
	"github.com/jkuri/clef/pkg/regerr"
	"github.com/labstack/echo/v4"
)

// User implements login/register, whoami, and logout (spec.md §4.5).
type User struct {
	auth *auth.Service
}

func NewUser(authSvc *auth.Service) *User {
	return &User{auth: authSvc}
}

type loginBody struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// Login serves PUT /registry/-/user/org.couchdb.user:{name}.
func (u *User) Login(c echo.Context) error {
	urlUsername := strings.TrimPrefix(c.Param("name"), "org.couchdb.user:")

	var body loginBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return respondErr(c, regerr.Validation("malformed login body: %v", err))
	}

	result, err := u.auth.Login(c.Request().Context(), urlUsername, body.Name, body.Password, body.Email)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// Whoami serves GET /registry/-/whoami.
func (u *User) Whoami(c echo.Context) error {
	token := bearerToken(c)
	username, err := u.auth.Whoami(c.Request().Context(), token)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"username": username})
}

// Logout serves DELETE /registry/-/user/token/{token}.
func (u *User) Logout(c echo.Context) error {
	token := c.Param("token")
	if err := u.auth.Logout(c.Request().Context(), token); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}
