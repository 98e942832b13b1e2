// Package credentials provides the file-backed key store used to answer
// auth_tag_detected events with auth_verify.
//
// Keys resolve from most to least specific:
//
//  1. tags[tag_uid]        key and user_data for one enrolled tag
//  2. devices[device_id]   key shared by every tag presented to one reader
//  3. default_key          site-wide fallback
//
// A tag entry may omit its key to attach user_data while inheriting the
// device or default key. A tag with no key at any level yields
// ErrNoCredentials, which the engine reports as Failed(CredentialsUnavailable).
//
// Example file:
//
//	default_key: "FFFFFFFFFFFF"
//	devices:
//	  lock-1:
//	    key: "A0A1A2A3A4A5"
//	tags:
//	  04A1B2C3:
//	    key: "D3F7D3F7D3F7"
//	    user_data:
//	      name: "Ada"
//	      access_level: "staff"
package credentials
