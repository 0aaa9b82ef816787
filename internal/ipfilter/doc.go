// Package ipfilter gates inbound requests against a configured CIDR
// allowlist. An empty allowlist admits every address.
package ipfilter
