package auth

import (
	"regexp"
	"strings"

	"github.com/entrhq/authstate/internal/usererr"
)

var nonAlnumRun = regexp.MustCompile(`[^A-Z0-9]+`)

// EnvKey turns a profile name into the KEY of AUTH_<KEY>_EMAIL: uppercase,
// runs of other characters collapsed to "_", outer "_" trimmed.
func EnvKey(profile string) string {
	key := nonAlnumRun.ReplaceAllString(strings.ToUpper(profile), "_")
	return strings.Trim(key, "_")
}

// EnvVarNames returns the email and password variables for profile.
func EnvVarNames(profile string) (emailVar, passwordVar string) {
	key := EnvKey(profile)
	return "AUTH_" + key + "_EMAIL", "AUTH_" + key + "_PASSWORD"
}

// EnvCredentials reads AUTH_<KEY>_EMAIL and AUTH_<KEY>_PASSWORD. An empty
// value counts as missing.
func EnvCredentials(profile string, env EnvLookup) (Credentials, error) {
	emailVar, passwordVar := EnvVarNames(profile)
	return envPair(profile, env, emailVar, passwordVar)
}

// EnvCredentialsFrom returns a resolver reading the given variable names.
func EnvCredentialsFrom(emailVar, passwordVar string) CredentialsResolver {
	return func(cc CredentialsContext) (Credentials, error) {
		return envPair(cc.Profile, cc.Env, emailVar, passwordVar)
	}
}

func envPair(profile string, env EnvLookup, emailVar, passwordVar string) (Credentials, error) {
	if env == nil {
		env = MapEnv(nil)
	}
	email, _ := env(emailVar)
	password, _ := env(passwordVar)

	var missing []string
	if email == "" {
		missing = append(missing, emailVar)
	}
	if password == "" {
		missing = append(missing, passwordVar)
	}
	if len(missing) > 0 {
		return Credentials{}, usererr.Newf(
			"Missing credentials for profile %q. Set: %s. Example: %s=user@example.com %s=***",
			profile, strings.Join(missing, ", "), emailVar, passwordVar)
	}
	return Credentials{Email: email, Password: password}, nil
}

// ResolveCredentials picks the profile's resolver, then the config's, then
// the environment convention.
func ResolveCredentials(cfg *Config, profile string, p Profile, env EnvLookup) (Credentials, error) {
	resolver := p.Credentials
	if resolver == nil {
		resolver = cfg.Credentials
	}
	if resolver == nil {
		return EnvCredentials(profile, env)
	}

	creds, err := resolver(CredentialsContext{Profile: profile, Env: env})
	if err != nil {
		return Credentials{}, err
	}
	if creds.Email == "" || creds.Password == "" {
		return Credentials{}, usererr.Newf(
			"Credentials resolver for profile %q returned an invalid value; expected both email and password.", profile)
	}
	return creds, nil
}
