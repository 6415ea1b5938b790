package cdr

// ArticleSchema is the allow-list of one scraped or syndicated article
var ArticleSchema = Schema{
	"title":            String(500),
	"source":           String(500),
	"source_url":       URL(),
	"url":              URL(),
	"link":             URL(),
	"body":             Text(),
	"body_text":        Text(),
	"body_snippet":     Text(),
	"content":          Text(),
	"summary":          Text(),
	"description":      Text(),
	"date":             Date(),
	"language":         String(100),
	"category":         String(100),
	"author":           String(100),
	"relevance_tags":   StringList(20, 50),
	"categories":       StringList(10, 50),
	"matched_keywords": StringList(20, 100),
}

// DataSchema is the allow-list shared by every source's payload
var DataSchema = Schema{
	"date":           String(maxDateLength),
	"source_url":     URL(),
	"total_scraped":  Count(),
	"total_fetched":  Count(),
	"total_relevant": Count(),
	"articles":       ObjectList(ArticleSchema, MaxItems, hasTitleOrSource),
	"error":          String(500),
	"feed_errors": ObjectList(Schema{
		"feed":  URLOr("unknown"),
		"name":  String(100),
		"error": String(200),
	}, 50, nil),
}

// keep articles that can still be attributed to something
func hasTitleOrSource(v any) bool {
	doc, ok := v.(Document)
	if !ok {
		return false
	}
	title, _ := doc["title"].(string)
	_, hasURL := doc["source_url"]
	return title != "" || hasURL
}

var parliamentSchema = DataSchema.Extend(Schema{
	"bills": ObjectList(Schema{
		"id":         String(20),
		"title":      String(500),
		"title_fr":   String(500),
		"status":     String(200),
		"introduced": Date(),
		"session":    String(20),
		"sponsor":    String(200),
	}, 100, nil),
	"hansard_stats": Object(Schema{
		"by_keyword":       Map(Count()),
		"total_mentions":   Count(),
		"debates_searched": Count(),
	}),
	"tracked_bills": StringList(50, 20),
	"keywords":      StringList(50, 100),
})

var statcanPoint = Schema{
	"period": String(maxDateLength),
	"value":  Number(),
	"scalar": String(50),
}

var statcanSchema = DataSchema.Extend(Schema{
	"country":              String(50),
	"table_id":             String(20),
	"reference_period":     String(maxDateLength),
	"scalar_factor":        String(50),
	"imports_cad_millions": Number(),
	"exports_cad_millions": Number(),
	"balance_cad_millions": Number(),
	"series":               Map(ObjectList(statcanPoint, 120, nil)),
	"commodities": ObjectList(Schema{
		"name":                 String(200),
		"name_zh":              String(200),
		"export_cad_millions":  Number(),
		"import_cad_millions":  Number(),
		"balance_cad_millions": Number(),
		"trend":                String(10),
	}, 100, nil),
	"totals": Object(Schema{
		"total_exports_cad": Number(),
		"total_imports_cad": Number(),
		"trade_balance_cad": Number(),
	}),
})

var marketsSchema = DataSchema.Extend(Schema{
	"indices": ObjectList(Schema{
		"ticker":         String(20),
		"name":           String(100),
		"value":          Number(),
		"change_pct":     Number(),
		"prev_close":     Number(),
		"sparkline":      List(Number(), 30),
		"latest_date":    Date(),
		"market_holiday": Bool(),
		"error":          String(500),
	}, 50, nil),
	"summary": Object(Schema{
		"indices_fetched":    Count(),
		"indices_failed":     Count(),
		"all_markets_closed": Bool(),
	}),
})

var newsSchema = DataSchema.Extend(Schema{
	"total_articles": Count(),
	"feeds_checked":  Count(),
	"keywords_used":  StringList(50, 100),
})

// schemas holds the payload allow-lists of the built-in plugins by name
var schemas = map[string]Schema{
	"parliament": parliamentSchema,
	"statcan":    statcanSchema,
	"markets":    marketsSchema,
	"news":       newsSchema,
	"press":      DataSchema,
	"mfa":        DataSchema,
}

// SchemaFor returns the payload allow-list of a plugin. Unknown plugins get
// DataSchema.
func SchemaFor(plugin string) Schema {
	if s, ok := schemas[plugin]; ok {
		return s
	}
	return DataSchema
}
