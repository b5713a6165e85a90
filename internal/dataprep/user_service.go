// Package dataprep implements the data preparation job: it pulls the source and target
// datasets from the core API through a resilient client.
package dataprep

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ambiyansyah-risyal/tameng"
)

// Requester is the part of *tameng.Client the services use.
type Requester interface {
	Get(ctx context.Context, path string, opts ...tameng.RequestOption) (*tameng.Response, error)
	Post(ctx context.Context, path string, body any, opts ...tameng.RequestOption) (*tameng.Response, error)
	Put(ctx context.Context, path string, body any, opts ...tameng.RequestOption) (*tameng.Response, error)
	Delete(ctx context.Context, path string, opts ...tameng.RequestOption) (*tameng.Response, error)
}

// Record is one untyped row of a dataset.
type Record map[string]any

// User is a core API user.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateUserRequest is the body of a user creation.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateUserRequest is a partial update; nil fields are left unchanged.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// UserService calls the core API's user and data endpoints.
type UserService struct {
	http Requester
}

// NewUserService returns a service sending requests through r.
func NewUserService(r Requester) *UserService {
	return &UserService{http: r}
}

// GetData fetches the dataset identified by id.
func (s *UserService) GetData(ctx context.Context, id string, opts ...tameng.RequestOption) ([]Record, error) {
	resp, err := s.http.Get(ctx, "/data/"+url.PathEscape(id), opts...)
	if err != nil {
		return nil, fmt.Errorf("get data %s: %w", id, err)
	}
	return decode[[]Record](resp, "data "+id)
}

// GetUser fetches one user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	resp, err := s.http.Get(ctx, "/users/"+url.PathEscape(id))
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return decode[User](resp, "user "+id)
}

// CreateUser creates a user and returns it as stored.
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (User, error) {
	resp, err := s.http.Post(ctx, "/users", req)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return decode[User](resp, "created user")
}

// UpdateUser applies a partial update to the user with the given ID.
func (s *UserService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (User, error) {
	resp, err := s.http.Put(ctx, "/users/"+url.PathEscape(id), req)
	if err != nil {
		return User{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return decode[User](resp, "user "+id)
}

// DeleteUser removes the user with the given ID.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.http.Delete(ctx, "/users/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

func decode[T any](resp *tameng.Response, what string) (T, error) {
	v, err := tameng.DecodeAs[T](resp)
	if err != nil {
		return v, fmt.Errorf("decode %s: %w", what, err)
	}
	return v, nil
}
