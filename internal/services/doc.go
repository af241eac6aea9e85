// Package services defines the shared error taxonomy and context helpers used
// by the catalog client, the stores, and the background engines.
//
// Key responsibilities:
//   - Sentinel markers (network, rate limited, not found, server, malformed
//     response, validation, storage) plus the Wrap helper that keeps the marker
//     and the cause reachable through errors.Is.
//   - Kind labels that engines persist as lastCheckError and that metrics use
//     as outcome labels.
//   - Context helpers that stamp run ids, title ids, and engine names for
//     logging.
package services
