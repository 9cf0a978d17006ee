// Package combinedenergy provides a client for the Combined Energy
// monitoring API.
//
// Combined Energy installations report per-device energy readings (solar,
// grid meter, water heater, consumers) through a cloud data service. This
// package logs in with the account credentials, keeps the session token
// fresh and pages through readings windows.
//
// # Architecture
//
// The package is organized into several components:
//
//   - Client: the session manager. Logs in lazily, renews the token before
//     it expires and replays a request once when the server reports the
//     session expired
//   - ReadingsIterator: walks readings window by window, resuming from the
//     end of the window the server actually returned
//   - Types: response models, including device readings with gap-aware series
//   - Errors: sentinel errors plus typed errors for classification
//
// # Usage
//
//	logger := zerolog.New(os.Stdout)
//	client, err := combinedenergy.NewClient(
//		combinedenergy.Credentials{MobileOrEmail: "user@example.com", Password: "secret"},
//		1234,
//		logger,
//		combinedenergy.WithTimeout(15*time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	readings, err := client.LastReadings(ctx, 2*time.Hour, 300)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Following new readings as they arrive:
//
//	it, err := combinedenergy.NewReadingsIterator(client, 60,
//		combinedenergy.WithInitialDelta(10*time.Minute))
//	if err != nil {
//		log.Fatal(err)
//	}
//	for readings, err := range it.All(ctx) {
//		if err != nil {
//			log.Fatal(err)
//		}
//		handle(readings)
//		time.Sleep(time.Minute)
//	}
//
// The iterator never waits on its own; pacing between windows belongs to
// the caller.
//
// # Error Handling
//
//   - ErrTransport: network failures and timeouts (*TransportError)
//   - ErrAuthentication: rejected credentials or a session that expired
//     again right after a new login (*AuthError)
//   - ErrInstallationNotFound: the installation is not linked to the account
//   - ErrUpstreamFormat: a response that does not match the models (*FormatError)
//   - ErrPermissionDenied: HTTP 403 from a data endpoint (*APIError)
//
// All of them work with errors.Is:
//
//	if errors.Is(err, combinedenergy.ErrAuthentication) {
//		// Check credentials
//	}
package combinedenergy
