// Package inventory defines the resource records, task records, and storage
// contracts shared by the API, the workers, and the provider adapters.
package inventory
