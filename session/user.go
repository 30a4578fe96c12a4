// Package session carries the identity of the user driving a flow.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNoUser = errors.New("user id is required")

// UserContext 当前用户身份，通过构造函数注入各流程，禁止硬编码。
type UserContext struct {
	UserID uuid.UUID
}

// NewUserContext parses a user id as issued by the users service.
func NewUserContext(id string) (UserContext, error) {
	if id == "" {
		return UserContext{}, ErrNoUser
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return UserContext{}, fmt.Errorf("parse user id: %w", err)
	}
	if uid == uuid.Nil {
		return UserContext{}, ErrNoUser
	}
	return UserContext{UserID: uid}, nil
}

func (u UserContext) Valid() bool { return u.UserID != uuid.Nil }

func (u UserContext) String() string { return u.UserID.String() }
