package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnauthorized is returned when a caller lacks a required capability.
var ErrUnauthorized = errors.New("access: unauthorized")

// Capability identifies a write permission. Its id is the keccak256 of the
// role name so it lines up with on-chain role identifiers.
type Capability struct {
	Name string
	ID   common.Hash
}

// NewCapability derives a capability from its role name.
func NewCapability(name string) Capability {
	return Capability{Name: name, ID: crypto.Keccak256Hash([]byte(name))}
}

func (c Capability) String() string {
	return c.Name
}

var (
	// Admin may grant and revoke capabilities.
	Admin = NewCapability("ADMIN_ROLE")
	// OracleUpdater may push reports into the coordinator.
	OracleUpdater = NewCapability("ORACLE_UPDATER_ROLE")
	// Automation may trigger the coordinator's pull-based update.
	Automation = NewCapability("AUTOMATION_ROLE")
	// Reporter may invoke the off-chain report submission path.
	Reporter = NewCapability("REPORTER_ROLE")
)

// ByName resolves one of the well-known capabilities.
func ByName(name string) (Capability, bool) {
	for _, c := range []Capability{Admin, OracleUpdater, Automation, Reporter} {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// ACL is a permission set keyed by caller identity, evaluated on every call.
type ACL struct {
	mu     sync.RWMutex
	grants map[common.Hash]map[common.Address]struct{}
}

// NewACL returns an ACL where admin holds the Admin capability.
func NewACL(admin common.Address) *ACL {
	acl := &ACL{grants: make(map[common.Hash]map[common.Address]struct{})}
	acl.grant(Admin, admin)
	return acl
}

// Has reports whether caller holds c.
func (a *ACL) Has(c Capability, caller common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.grants[c.ID][caller]
	return ok
}

// Require returns ErrUnauthorized unless caller holds c.
func (a *ACL) Require(c Capability, caller common.Address) error {
	if !a.Has(c, caller) {
		return fmt.Errorf("%w: %s missing %s", ErrUnauthorized, caller.Hex(), c.Name)
	}
	return nil
}

// Grant gives account the capability c. The granter must hold Admin.
func (a *ACL) Grant(granter common.Address, c Capability, account common.Address) error {
	if err := a.Require(Admin, granter); err != nil {
		return err
	}
	a.grant(c, account)
	return nil
}

// Revoke removes c from account. The revoker must hold Admin.
func (a *ACL) Revoke(revoker common.Address, c Capability, account common.Address) error {
	if err := a.Require(Admin, revoker); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.grants[c.ID], account)
	return nil
}

func (a *ACL) grant(c Capability, account common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	holders, ok := a.grants[c.ID]
	if !ok {
		holders = make(map[common.Address]struct{})
		a.grants[c.ID] = holders
	}
	holders[account] = struct{}{}
}
