package auth

import (
	"log"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// InitCasbin defines the RBAC model and initializes the enforcer with GORM adapter
func InitCasbin(db *gorm.DB) (*casbin.Enforcer, error) {
	// 1. Initialize GORM adapter (creates casbin_rule table)
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}

	// 2. RBAC model
	// keyMatch2 supports URL parameters like /contracts/:id
	text := `
		[request_definition]
		r = sub, obj, act

		[policy_definition]
		p = sub, obj, act

		[role_definition]
		g = _, _

		[policy_effect]
		e = some(where (p.eft == allow))

		[matchers]
		m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
	`

	m, err := model.NewModelFromString(text)
	if err != nil {
		return nil, err
	}

	// 3. Create Enforcer
	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}

	// 4. Load policy from database
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}

	// 5. Initialize default policies if empty
	policies, _ := enforcer.GetPolicy()
	if len(policies) == 0 {
		log.Println("Casbin: No policies found, initializing defaults...")

		defaults := [][]string{
			// admin 拥有全部 API
			{"admin", "/api/*", "(GET)|(POST)|(PUT)|(DELETE)"},
			// user 只能下单和查询自己的数据
			{"user", "/api/contracts", "(GET)|(POST)"},
			{"user", "/api/contracts/:id", "GET"},
			{"user", "/api/users/:userID/contracts", "GET"},
			{"user", "/api/users/:userID/account", "GET"},
			{"user", "/api/durations", "GET"},
			{"user", "/api/auth/me", "GET"},
			{"user", "/api/auth/logout", "POST"},
		}

		for _, p := range defaults {
			if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
				log.Printf("Failed to add default policy %v: %v", p, err)
			}
		}

		if err := enforcer.SavePolicy(); err != nil {
			log.Printf("Failed to save default policies: %v", err)
		} else {
			log.Println("Casbin: Default policies initialized.")
		}
	}

	log.Println("Casbin initialized successfully")
	return enforcer, nil
}
