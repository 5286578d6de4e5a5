package policy

// Role names understood by the built-in policies, compared case-insensitively.
const (
	RoleMonitor       = "Monitor"
	RoleOperator      = "Operator"
	RoleMaintainer    = "Maintainer"
	RoleDeployer      = "Deployer"
	RoleAdministrator = "Administrator"
	RoleAuditor       = "Auditor"
	RoleSuperUser     = "SuperUser"
)

// GetBuiltinPolicies returns the policies loaded into every engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sensitiveTargetsPolicy(),
		monitorReadOnlyPolicy(),
	}
}

// sensitiveTargetsPolicy guards resources carrying a sensitive constraint:
// only administrators may change them.
func sensitiveTargetsPolicy() Policy {
	return Policy{
		Name:        "sensitive_targets",
		Description: "Changes to connectors, SSL configuration and valves require the Administrator or SuperUser role",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rbac", "sensitive"},
		Rego: `package webplane.sensitive_targets

import rego.v1

sensitive := {"web-connector", "web-valve"}

privileged := {"administrator", "superuser"}

internal if input.caller.user == ""

privileged_caller if {
	some role in input.caller.roles
	lower(role) in privileged
}

deny contains msg if {
	not internal
	not input.read_only
	some c in input.constraints
	c in sensitive
	not privileged_caller
	msg := sprintf("%s on %s requires the Administrator role: target is classified %s", [input.operation, input.address, c])
}`,
	}
}

// monitorReadOnlyPolicy restricts callers holding only read roles to
// read-only operations.
func monitorReadOnlyPolicy() Policy {
	return Policy{
		Name:        "monitor_read_only",
		Description: "Callers with only the Monitor or Auditor role may not modify the model",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rbac"},
		Rego: `package webplane.monitor_read_only

import rego.v1

read_roles := {"monitor", "auditor"}

writer if {
	some role in input.caller.roles
	not lower(role) in read_roles
}

deny contains msg if {
	input.caller.user != ""
	not input.read_only
	not writer
	msg := sprintf("user %s may only read: %s on %s refused", [input.caller.user, input.operation, input.address])
}`,
	}
}
