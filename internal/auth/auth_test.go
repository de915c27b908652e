package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/chartflow/chartflow/pkg/models"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) Get(username string) (*models.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func testService(t *testing.T) (*Service, *models.User) {
	t.Helper()
	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	user := &models.User{
		Username:        "alice",
		Salt:            salt,
		PasswordHash:    HashPassword("hunter2", salt),
		AllowedDatasets: []string{"cohort"},
	}
	svc := NewService(Config{JWTSecret: "test-secret"}, &fakeUsers{users: map[string]*models.User{"alice": user}})
	return svc, user
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := testService(t)

	pair, err := svc.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("token pair = %+v", pair)
	}

	user, err := svc.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q", user.Username)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshTokenIsNotABearerCredential(t *testing.T) {
	svc, _ := testService(t)
	pair, err := svc.Login("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Authenticate(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh-as-access error = %v, want ErrInvalidToken", err)
	}

	fresh, err := svc.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := svc.Authenticate(fresh.AccessToken); err != nil {
		t.Errorf("refreshed access token rejected: %v", err)
	}
	if _, err := svc.Refresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access-as-refresh error = %v, want ErrInvalidToken", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	jwtSvc := NewJWTService("test-secret", time.Nanosecond, time.Hour)
	pair, err := jwtSvc.GeneratePair("alice")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := jwtSvc.Validate(pair.AccessToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestAccessPredicates(t *testing.T) {
	user := &models.User{Username: "alice", AllowedDatasets: []string{"cohort"}}
	admin := &models.User{Username: "root", Admin: true}
	project := &models.Project{Name: "proj", Owner: "bob", AllowedUsers: []string{"alice"}}

	if !CanAccessDataset(user, "cohort") || CanAccessDataset(user, "other") {
		t.Error("dataset allow-list not honored")
	}
	if !CanAccessDataset(admin, "anything") {
		t.Error("admin should see every dataset")
	}
	if !CanAccessProject(user, project) {
		t.Error("allowed user rejected")
	}
	if CanAccessProject(&models.User{Username: "mallory"}, project) {
		t.Error("outsider admitted")
	}
	if !CanAccessProject(&models.User{Username: "bob"}, project) {
		t.Error("owner rejected")
	}
}
