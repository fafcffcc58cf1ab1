package user

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
)

type stubService struct {
	ServiceInterface
}

func (stubService) CheckUniqueness(ctx context.Context, uname, email string) error { return nil }

func newValidator() *validator.Validate {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func TestNewUser_Validate(t *testing.T) {
	validate := newValidator()
	svc := stubService{}

	newUser := func(pwd string) NewUser {
		return NewUser{
			Name:            "Amani Wa Mahoro",
			Username:        "amani1",
			Email:           "amani@test.cd",
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           []string{RoleStudent},
		}
	}

	tests := []struct {
		name    string
		usr     NewUser
		wantErr bool
	}{
		{name: "valid", usr: newUser("G00d/Pa55")},
		{name: "too short", usr: newUser("G0/d"), wantErr: true},
		{name: "whitespace", usr: newUser("G00d Pa55"), wantErr: true},
		{name: "all numeric", usr: newUser("194637820"), wantErr: true},
		{name: "no complexity", usr: newUser("goodpass"), wantErr: true},
		{name: "similar to email", usr: newUser("Amani@test.cd1"), wantErr: true},
		{name: "missing name", usr: NewUser{Password: "G00d/Pa55", PasswordConfirm: "G00d/Pa55"}, wantErr: true},
		{
			name: "password mismatch",
			usr: NewUser{
				Name:            "Amani",
				Password:        "G00d/Pa55",
				PasswordConfirm: "G00d/Pa56",
			},
			wantErr: true,
		},
		{
			name: "bad role",
			usr: NewUser{
				Name:            "Amani",
				Password:        "G00d/Pa55",
				PasswordConfirm: "G00d/Pa55",
				Roles:           []string{"pupil:"},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.usr.Validate(context.Background(), validate, svc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUser_roles(t *testing.T) {
	tests := []struct {
		name                          string
		roles                         []string
		isAdmin, isTeacher, isStudent bool
	}{
		{name: "none"},
		{name: "student", roles: []string{RoleStudent}, isStudent: true},
		{name: "teacher", roles: []string{RoleTeacher}, isTeacher: true},
		{name: "admin", roles: []string{RoleAdminPrincipal}, isAdmin: true},
		{name: "teacher and admin", roles: []string{RoleTeacher, RoleAdmin}, isAdmin: true, isTeacher: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr := User{Roles: tt.roles}
			if got := usr.IsAdmin(); got != tt.isAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.isAdmin)
			}
			if got := usr.IsTeacher(); got != tt.isTeacher {
				t.Errorf("IsTeacher() = %v, want %v", got, tt.isTeacher)
			}
			if got := usr.IsStudent(); got != tt.isStudent {
				t.Errorf("IsStudent() = %v, want %v", got, tt.isStudent)
			}
		})
	}
}
