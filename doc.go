// Package main hosts the shopfinder command.
//
// Architecture overview:
//   - Input: internal/input turns an inline list or a JSON array file into validated five-digit postal codes,
//     applying start/limit windows. Bad entries are logged and skipped.
//   - Search: internal/session drives the locator form (consent, postal code, radius, submit) through an explicit
//     state machine and falls back to a parameterized listing URL when any step cannot be completed.
//   - Expansion: internal/converge alternates "load more" clicks and incremental scrolling until the count of
//     unique detail links stays unchanged for the configured number of rounds, a round cap or a time budget is hit.
//   - Details: internal/extract reads name, address, phone, email, website and category from each detail page
//     through the internal/locator field table; internal/record normalizes and deduplicates by canonical URL.
//   - Drivers: internal/browser/headless wraps chromedp and tracks in-flight requests for quiescence;
//     internal/browser/static answers the same queries over plain HTTP with colly, goquery and htmlquery.
//   - Outputs: records fan out to JSONL, GCS, Postgres, Pub/Sub and Redis sinks (internal/sink/...). Every attempted
//     detail URL produces either a record or an error record.
//   - Plumbing: Viper loads config from defaults, file, .env and SHOPFINDER_* env vars; zap provides structured
//     logging; Prometheus metrics and run status are served by internal/server when metrics are enabled.
//
// Operational notes:
//   - Concurrency model: run.workers postal codes in parallel, each on its own listing page; the headless driver
//     bounds open tabs with browser.max_parallel. Detail visits are spaced per host by a token bucket.
//   - A failing postal code is recorded in the run summary and never stops the run. SIGINT/SIGTERM cancel the run
//     context; outputs are still flushed and the partial summary is printed.
//
// Quick checklist:
//   - Configure: SHOPFINDER_SITE_LISTING_URL, SHOPFINDER_SEARCH_RADIUS_KM, SHOPFINDER_RUN_WORKERS,
//     SHOPFINDER_OUTPUT_* for the sinks, SHOPFINDER_METRICS_ENABLED to expose /metrics and /v1/run.
//   - Run locally: go run . crawl --postal-codes 80331,10115 --output shops.jsonl
//   - Debug selectors: go run . selectors --config config.yaml
package main
