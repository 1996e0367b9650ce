package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		skipDependenciesPolicy(),
		productionSafetyPolicy(),
		skipEverythingPolicy(),
	}
}

// skipDependenciesPolicy rejects skip-sets that starve an executed phase
// of a phase it requires.
func skipDependenciesPolicy() Policy {
	return Policy{
		Name:        "skip-dependencies",
		Description: "Rejects runs where an executed phase requires a skipped phase",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"skips", "ordering"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployctl.policies.dependencies

import rego.v1

# A phase that will execute must not require a phase the run skips.
deny contains violation if {
	some phase in input.phases
	not phase.skipped
	some dep in phase.requires
	dep in input.skip

	violation := {
		"message": sprintf("phase %s requires %s, which is skipped", [phase.id, dep]),
		"severity": "error",
		"phase": phase.id,
	}
}`,
	}
}

// productionSafetyPolicy keeps an operator in the loop for destructive
// phases in production.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Requires interactive confirmation or a dry run for destructive phases in production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployctl.policies.production

import rego.v1

deny contains violation if {
	input.environment == "production"
	not input.dry_run
	not input.interactive

	some phase in input.phases
	phase.destructive
	not phase.skipped

	violation := {
		"message": sprintf("destructive phase %s in production requires interactive confirmation or a dry run", [phase.id]),
		"severity": "critical",
		"phase": phase.id,
	}
}`,
	}
}

// skipEverythingPolicy flags runs whose skip-set covers every phase.
func skipEverythingPolicy() Policy {
	return Policy{
		Name:        "skip-everything",
		Description: "Warns when every registered phase is skipped",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"skips"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package deployctl.policies.skips

import rego.v1

deny contains violation if {
	count(input.phases) > 0

	every phase in input.phases {
		phase.skipped
	}

	violation := {
		"message": sprintf("all %d phases are skipped; the run would do nothing", [count(input.phases)]),
		"severity": "warning",
	}
}`,
	}
}
