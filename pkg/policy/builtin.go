package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		bundledSecretsPolicy(),
		largeModulesPolicy(),
	}
}

// bundledSecretsPolicy refuses to bundle files that look like credentials.
func bundledSecretsPolicy() Policy {
	return Policy{
		Name:        "bundled-secrets",
		Description: "Refuses to bundle files that look like credentials (.env, private keys, .netrc)",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package froyopack.policies.secrets

import rego.v1

secret_patterns := [
	"(^|/)\\.env(\\.[a-z]+)?$",
	"\\.pem$",
	"\\.key$",
	"(^|/)id_(rsa|dsa|ecdsa|ed25519)$",
	"(^|/)\\.netrc$",
]

looks_secret(name) if {
	some pattern in secret_patterns
	regex.match(pattern, name)
}

deny contains violation if {
	some r in input.resources
	looks_secret(r.name)
	violation := {
		"message": sprintf("resource %q looks like a secret and must not be bundled", [r.name]),
		"module": r.name,
	}
}

deny contains violation if {
	some m in input.modules
	m.kind == "data-file"
	looks_secret(m.logical_path)
	violation := {
		"message": sprintf("data file %q looks like a secret and must not be bundled", [m.logical_path]),
		"module": m.name,
	}
}
`,
	}
}

// largeModulesPolicy flags modules that dominate the payload size.
func largeModulesPolicy() Policy {
	return Policy{
		Name:        "large-modules",
		Description: "Warns about modules larger than 64 MiB",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package froyopack.policies.size

import rego.v1

limit := 67108864

warn contains finding if {
	some m in input.modules
	m.size > limit
	finding := {
		"message": sprintf("module is %d bytes, consider excluding it", [m.size]),
		"module": m.name,
	}
}
`,
	}
}
