// Package pathtemplate parses resource name templates such as
// "shelves/{shelf}/books/*" and uses them to extract variables from
// resource names and to render resource names from variables.
//
// A template is a '/'-separated list of literal segments, single-segment
// wildcards ("*"), at most one multi-segment wildcard ("**") and bindings
// ("{name}" or "{name=sub/template}"), optionally followed by a custom verb
// (":verb"). Wildcards outside a binding are bound to implicit variables
// named "$0", "$1" and so on, in order of appearance.
package pathtemplate
