package testhelper

import (
	"encoding/json"
	"fmt"
	"os"
)

// TestKey is the environment variable holding the integration test
// credentials. Tests skip when it is not set.
const TestKey = "BIGQUERY_INTEGRATION_TEST_CREDENTIALS"

type TestCredentials struct {
	ProjectID   string `json:"projectID"`
	Dataset     string `json:"dataset"`
	Credentials string `json:"credentials"`
}

func GetBQTestCredentials() (*TestCredentials, error) {
	cred, exists := os.LookupEnv(TestKey)
	if !exists {
		return nil, fmt.Errorf("bigquery test credentials not found")
	}

	var credentials TestCredentials
	if err := json.Unmarshal([]byte(cred), &credentials); err != nil {
		return nil, fmt.Errorf("unable to marshall bigquery test credentials: %w", err)
	}
	return &credentials, nil
}

func IsBQTestCredentialsAvailable() bool {
	_, err := GetBQTestCredentials()
	return err == nil
}
