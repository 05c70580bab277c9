// Command sitemap-bot generates sitemaps for sites requested over Slack.
package main

import (
	"github.com/JakeFAU/sitemap-bot/cmd"
)

func main() {
	cmd.Execute()
}
