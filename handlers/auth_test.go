package handlers

import (
	"net/http"
	"testing"
	"time"

	"superviseme/middleware"
	"superviseme/models"

	"gorm.io/gorm"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "New.Student@X.com", "password": "hunter22", "role": "student",
	})
	env.expect(resp, http.StatusCreated)
	var auth AuthResponse
	resp.decode(t, &auth)
	if auth.Token == "" || auth.User.Email != "new.student@x.com" || auth.User.Role != models.RoleStudent {
		t.Fatalf("auth = %+v", auth)
	}

	resp = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "new.student@x.com", "password": "hunter22", "role": "student",
	})
	env.expect(resp, http.StatusConflict)

	resp = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "short@x.com", "password": "abc", "role": "student",
	})
	env.expect(resp, http.StatusBadRequest)

	resp = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "new.student@x.com", "password": "wrong"})
	env.expect(resp, http.StatusUnauthorized)

	resp = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "NEW.student@x.com", "password": "hunter22"})
	env.expect(resp, http.StatusOK)
	resp.decode(t, &auth)

	resp = env.do(http.MethodGet, "/api/auth/me", auth.Token, nil)
	env.expect(resp, http.StatusOK)
	var me models.User
	resp.decode(t, &me)
	if me.Name() != "new student" {
		t.Errorf("name = %q", me.Name())
	}
}

func TestSupervisorRegistrationNeedsInvite(t *testing.T) {
	env := newTestEnv(t)
	_, supToken := env.user("sup@x.com", models.RoleSupervisor)

	register := func(code string) testResponse {
		return env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "new.sup@x.com", "password": "hunter22", "role": "supervisor", "inviteCode": code,
		})
	}

	env.expect(register(""), http.StatusForbidden)
	env.expect(register("bogus"), http.StatusForbidden)

	resp := env.do(http.MethodPost, "/api/supervisor/invites", supToken, map[string]string{"email": "new.sup@x.com"})
	env.expect(resp, http.StatusCreated)
	var invite models.Invite
	resp.decode(t, &invite)

	env.expect(register(invite.Code), http.StatusCreated)

	var stored models.Invite
	env.db.First(&stored, invite.ID)
	if !stored.Used {
		t.Error("invite should be marked used")
	}

	resp = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "third@x.com", "password": "hunter22", "role": "supervisor", "inviteCode": invite.Code,
	})
	env.expect(resp, http.StatusForbidden)

	resp = env.do(http.MethodGet, "/api/supervisor/invites", supToken, nil)
	env.expect(resp, http.StatusOK)
	var invites []models.Invite
	resp.decode(t, &invites)
	if len(invites) != 1 {
		t.Errorf("invites = %+v", invites)
	}
}

func TestInviteClaimedOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	_, supToken := env.user("sup@x.com", models.RoleSupervisor)

	resp := env.do(http.MethodPost, "/api/supervisor/invites", supToken, map[string]string{})
	env.expect(resp, http.StatusCreated)
	var invite models.Invite
	resp.decode(t, &invite)

	// another registration redeems the code right after this one has read it
	stolen := false
	err := env.db.Callback().Query().After("gorm:query").Register("test:redeem_invite", func(db *gorm.DB) {
		if stolen || db.Statement.Table != "invites" {
			return
		}
		stolen = true
		db.Session(&gorm.Session{NewDB: true}).Exec("UPDATE invites SET used = ? WHERE code = ?", true, invite.Code)
	})
	if err != nil {
		t.Fatal(err)
	}

	resp = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "late@x.com", "password": "hunter22", "role": "supervisor", "inviteCode": invite.Code,
	})
	env.expect(resp, http.StatusForbidden)
	if !stolen {
		t.Fatal("invite lookup was never intercepted")
	}

	var count int64
	env.db.Model(&models.User{}).Where("email = ?", "late@x.com").Count(&count)
	if count != 0 {
		t.Errorf("account created with an already redeemed invite")
	}
}

func TestPasswordChangeRequired(t *testing.T) {
	env := newTestEnv(t)
	sup, _ := env.user("sup@x.com", models.RoleSupervisor)
	env.db.Model(sup).Update("must_change_password", true)
	sup.MustChangePassword = true
	token, err := middleware.GenerateToken(sup, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	resp := env.do(http.MethodGet, "/api/connections", token, nil)
	env.expect(resp, http.StatusForbidden)

	resp = env.do(http.MethodPut, "/api/auth/password", token, map[string]string{
		"currentPassword": testPassword, "newPassword": "brandnew", "confirmPassword": "different",
	})
	env.expect(resp, http.StatusBadRequest)

	resp = env.do(http.MethodPut, "/api/auth/password", token, map[string]string{
		"currentPassword": testPassword, "newPassword": "brandnew", "confirmPassword": "brandnew",
	})
	env.expect(resp, http.StatusOK)
	var auth AuthResponse
	resp.decode(t, &auth)

	resp = env.do(http.MethodGet, "/api/connections", auth.Token, nil)
	env.expect(resp, http.StatusOK)
}

func TestGitHubAuthNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user("s@x.com", models.RoleStudent)

	resp := env.do(http.MethodPost, "/github-auth", token, map[string]string{"code": "abc"})
	env.expect(resp, http.StatusServiceUnavailable)
}
