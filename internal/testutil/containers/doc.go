// Package containers provides testcontainer management for integration tests.
//
// It starts the external services agrialert talks to in production:
//
//   - MySQL 8.0, for the gorm repositories and the debounce race tests
//   - Eclipse Mosquitto, for the sensor snapshot feed
//
// Containers are typically managed using TestMain in integration test packages:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Integration tests using this package should use the "integration" build tag:
//
//	//go:build integration
//
//	go test -tags=integration ./...
package containers
