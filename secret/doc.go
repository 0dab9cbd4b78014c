// Package secret expands environment references in configuration text so
// credentials such as API key hashes and JWT secrets stay out of config files.
package secret
