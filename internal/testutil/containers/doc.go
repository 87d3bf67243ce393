// Package containers starts Docker-backed dependencies for integration tests.
//
// It wraps testcontainers-go for the three external services safetyvision
// talks to: a MySQL 8 violation store, an Eclipse Mosquitto broker for the
// MQTT notification provider, and a NATS server for the NATS provider.
//
// Containers are usually shared across a package from TestMain:
//
//	var db *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    db, err = containers.NewMySQLContainer(ctx, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = db.Terminate(ctx)
//	    os.Exit(code)
//	}
//
// Everything here is behind the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
