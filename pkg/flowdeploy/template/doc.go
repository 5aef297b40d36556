/*
Package template expands placeholders in expression templates.

# Overview

Router predicates are written in the engine's own expression language,
which uses ${...} for its expressions. Placeholders that this module fills
in therefore use the bare $var form, and the brace form is off by default:

	exp := template.NewExpander()
	pred, _ := exp.Expand("${$attribute:equalsIgnoreCase('$name')}", map[string]any{
	    "attribute": "hierarchy.target",
	    "name":      template.EscapeLiteral("Site B"),
	})
	// pred: "${hierarchy.target:equalsIgnoreCase('Site B')}"

A dollar placeholder ends at the first non-word character, so $name never
matches inside $nameSuffix.

# Missing Variables

By default unknown placeholders are kept as-is. MissingEmpty drops them and
MissingError reports them:

	exp := template.NewExpander(template.WithMissingAction(template.MissingError))
	_, err := exp.Expand("$missing", nil)
	// err: "undefined variable: missing"

# Thread Safety

Expander is safe for concurrent use after construction.
*/
package template
