package ledger

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars when given a non-pointer.
var ErrNotPointer = errors.New("config must be a pointer to a struct")

// GetenvOrDefault returns the trimmed value of key, or defaultValue when unset or blank.
func GetenvOrDefault(key string, defaultValue string) string {
	str := strings.TrimSpace(os.Getenv(key))
	if str == "" {
		return defaultValue
	}

	return str
}

// GetenvBoolOrDefault parses key as a bool, falling back to defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	str := os.Getenv(key)

	val, err := strconv.ParseBool(str)
	if err != nil {
		return defaultValue
	}

	return val
}

// GetenvIntOrDefault parses key as an int64, falling back to defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	str := os.Getenv(key)

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

// SetConfigFromEnvVars fills the string, bool, int and duration-like int
// fields of the struct pointed to by s from the environment variable named in
// each field's `env` tag. Missing variables leave the zero value.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	e := v.Elem()
	t := e.Type()

	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok || tag == "" {
			continue
		}

		field := e.Field(i)
		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(os.Getenv(tag))
		case reflect.Bool:
			field.SetBool(GetenvBoolOrDefault(tag, false))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			field.SetInt(GetenvIntOrDefault(tag, 0))
		default:
			return fmt.Errorf("unsupported config field %s of kind %s", t.Field(i).Name, field.Kind())
		}
	}

	return nil
}

// LocalEnvConfig records whether a local .env file was loaded.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig loads a .env file from the working directory when
// ENV_NAME is "local". It runs once per process.
func InitLocalEnvConfig() *LocalEnvConfig {
	version := GetenvOrDefault("VERSION", "NO-VERSION")
	envName := GetenvOrDefault("ENV_NAME", "local")

	fmt.Printf("VERSION: %s\n\n", version)
	fmt.Printf("ENVIRONMENT NAME: %s\n\n", envName)

	if envName != "local" {
		return nil
	}

	localEnvConfigOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Skipping .env file, using process environment")

			localEnvConfig = &LocalEnvConfig{Initialized: false}

			return
		}

		fmt.Println("Environment variables loaded from .env file")

		localEnvConfig = &LocalEnvConfig{Initialized: true}
	})

	return localEnvConfig
}
