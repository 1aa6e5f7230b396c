// Package propsfile loads the flat `key = value` configuration format used
// by older deployments. Keys carry their endpoint as a prefix
// (`source_username`, `destination_zone`); run settings are unprefixed
// (`workers`). Every key can be overridden from the environment as
// TREEPUMP_<KEY>.
package propsfile
