// Command listcrawler runs one bounded listing crawl and exits.
//
// It pages a listing URL template until the configured number of records is
// collected or a page fails, optionally visits every record's detail page,
// writes the ordered result to the configured sink and publishes a run
// summary. Configuration comes from a YAML file passed with -config and from
// CRAWLER_* environment variables.
//
//	listcrawler -config configs/jobs.yaml
//	CRAWLER_CRAWL_TARGET_COUNT=50 listcrawler -config configs/senior-list.yaml
package main
