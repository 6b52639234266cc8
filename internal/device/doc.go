// Package device defines the wireless transport contract used by the session
// supervisor together with the shared error taxonomy.
//
// The package covers:
//   - The Transport capability (discover, connect, subscribe, write, disconnect)
//   - Discovery candidates and placeholder filtering
//   - Structured connection errors and go-ble error normalization
//   - Characteristic UUID normalization
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
