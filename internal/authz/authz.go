package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Action names a guarded commission operation.
type Action string

const (
	ActionRead              Action = "commissions.read"
	ActionRegister          Action = "commissions.register"
	ActionRelease           Action = "commissions.release"
	ActionUpdateReleaseDate Action = "commissions.update_release_date"
	ActionCancel            Action = "commissions.cancel"
	ActionClaim             Action = "commissions.claim"
	ActionFixBalance        Action = "commissions.fix_balance"
	ActionSweep             Action = "commissions.sweep"
	ActionReset             Action = "commissions.reset"
)

const (
	roleAdmin      = "role:admin"
	roleSuperadmin = "role:superadmin"

	modelDefinition = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`
)

// ErrForbidden reports that the subject may not perform the action.
var ErrForbidden = errors.New("forbidden")

// Config lists the users holding each role. Superadmins are admins too.
type Config struct {
	Admins      []string
	Superadmins []string
}

// Authorizer decides which users may run which commission operations. The
// permission table is built once and never changes afterwards.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds the permission table: admins may do everything except the bulk
// reset, which only superadmins may run.
func New(config Config) (*Authorizer, error) {
	definition, err := model.NewModelFromString(modelDefinition)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(definition)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	adminActions := []Action{
		ActionRead,
		ActionRegister,
		ActionRelease,
		ActionUpdateReleaseDate,
		ActionCancel,
		ActionClaim,
		ActionFixBalance,
		ActionSweep,
	}
	for _, action := range adminActions {
		if _, err := enforcer.AddPolicy(roleAdmin, string(action)); err != nil {
			return nil, fmt.Errorf("authz policy %s: %w", action, err)
		}
	}
	if _, err := enforcer.AddPolicy(roleSuperadmin, string(ActionReset)); err != nil {
		return nil, fmt.Errorf("authz policy %s: %w", ActionReset, err)
	}
	if _, err := enforcer.AddGroupingPolicy(roleSuperadmin, roleAdmin); err != nil {
		return nil, fmt.Errorf("authz role inheritance: %w", err)
	}
	if err := assignRole(enforcer, config.Admins, roleAdmin); err != nil {
		return nil, err
	}
	if err := assignRole(enforcer, config.Superadmins, roleSuperadmin); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Authorize returns ErrForbidden unless subject may perform action.
func (authorizer *Authorizer) Authorize(subject string, action Action) error {
	subject = normalizeSubject(subject)
	if subject == "" {
		return fmt.Errorf("%w: anonymous subject", ErrForbidden)
	}
	allowed, err := authorizer.enforcer.Enforce(subject, string(action))
	if err != nil {
		return fmt.Errorf("authz enforce: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, subject, action)
	}
	return nil
}

func assignRole(enforcer *casbin.Enforcer, subjects []string, role string) error {
	for _, subject := range subjects {
		normalized := normalizeSubject(subject)
		if normalized == "" {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(normalized, role); err != nil {
			return fmt.Errorf("authz assign %s: %w", role, err)
		}
	}
	return nil
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
