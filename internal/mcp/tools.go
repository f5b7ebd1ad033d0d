package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("rules_list",
	mcp.WithDescription("List rules in the catalogue. Serves the cached catalogue while fresh, "+
		"syncs from the remote when stale, and falls back to the cached or bundled catalogue when offline. "+
		"Returns summaries unless include_content is true."),
	mcp.WithString("tag", mcp.Description("Only rules carrying this tag (case-insensitive). \"all\" matches everything.")),
	mcp.WithString("query", mcp.Description("Case-insensitive substring matched against title, slug, tags and libs.")),
	mcp.WithBoolean("include_content", mcp.Description("Include each rule's full content.")),
)

var getToolDef = mcp.NewTool("rules_get",
	mcp.WithDescription("Get one rule by slug, with its content and a heading outline. "+
		"When slugs repeat, the first rule in catalogue order is returned."),
	mcp.WithString("slug", mcp.Required(), mcp.Description("Rule slug.")),
)

var categoriesToolDef = mcp.NewTool("rules_categories",
	mcp.WithDescription("List unique tags with the number of rules carrying each, most used first."),
)

var syncToolDef = mcp.NewTool("rules_sync",
	mcp.WithDescription("Fetch the remote catalogue now, regardless of freshness, and cache it. "+
		"On failure nothing changes and the error is returned."),
)

var statusToolDef = mcp.NewTool("rules_status",
	mcp.WithDescription("Report cache freshness and recent sync runs without touching the network."),
	mcp.WithNumber("runs", mcp.Description("Number of recent sync runs to include (default 10, max 100).")),
)

var applyToolDef = mcp.NewTool("rules_apply",
	mcp.WithDescription("Write a rule's content to the workspace rules file (default .cursorrules), "+
		"replacing any existing content. An existing file is only replaced when overwrite is true; "+
		"otherwise the call succeeds with applied=false."),
	mcp.WithString("slug", mcp.Required(), mcp.Description("Rule slug.")),
	mcp.WithString("workspace", mcp.Description("Absolute path of the workspace root.")),
	mcp.WithString("target", mcp.Description("File to write instead of <workspace>/.cursorrules; relative paths resolve against the workspace and must stay inside it.")),
	mcp.WithBoolean("overwrite", mcp.Description("Confirm replacing an existing file.")),
)
