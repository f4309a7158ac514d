package env

import (
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

// GetEnv prefers values from the loaded .env file, then the process
// environment, then def.
func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok && val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file it finds. A missing file is not
// an error: containers usually pass configuration through the environment.
func SetupEnvFile(candidates ...string) (string, bool) {
	if len(candidates) == 0 {
		candidates = []string{
			".env",
			"../../.env", // from cmd/thirdpath
			"../../../.env",
		}
	}

	for _, envFile := range candidates {
		vals, err := godotenv.Read(envFile)
		if err == nil {
			Env = vals
			return envFile, true
		}
	}
	Env = map[string]string{}
	return "", false
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
