package testutil

import (
	"github.com/roach88/aggql/internal/metadata"
)

// Catalog builds the model used across package tests:
//
//	playerStats --country--> country
//	playerStats --player---> player --stats (toMany)--> playerStats
//	playerStats --rate-----> rates   (ON depends on the currency argument)
//	filteredStats: subquery source with a table argument
//
// Every call returns fresh, independently linked tables.
func Catalog() *metadata.Catalog {
	cat, err := metadata.NewCatalog(
		playerStats(), country(), player(), rates(), filteredStats(),
	)
	if err != nil {
		panic(err)
	}
	return cat
}

// Table returns a table from a fresh Catalog.
func Table(name string) *metadata.Table {
	t, ok := Catalog().Table(name)
	if !ok {
		panic("testutil: unknown table " + name)
	}
	return t
}

// CyclicCatalog builds a model whose formulas loop:
// a -> b -> a, self -> self (through a helper) and a loop through a join.
func CyclicCatalog() *metadata.Catalog {
	loop := &metadata.Table{
		Name: "loop",
		Joins: []*metadata.Join{
			{Name: "me", TargetName: "loop", On: "{{$id}} = {{me.$id}} AND {{viaJoin}} = 1"},
		},
		Columns: []*metadata.Column{
			{Name: "a", Kind: metadata.KindDimension, Type: metadata.TypeText, Formula: "{{b}}"},
			{Name: "b", Kind: metadata.KindDimension, Type: metadata.TypeText, Formula: "UPPER({{a}})"},
			{Name: "c", Kind: metadata.KindDimension, Type: metadata.TypeText, Formula: "{{me.c}}"},
			{Name: "viaJoin", Kind: metadata.KindDimension, Type: metadata.TypeInteger, Formula: "{{me.$flag}}"},
			{Name: "ok", Kind: metadata.KindDimension, Type: metadata.TypeText},
		},
	}
	cat, err := metadata.NewCatalog(loop)
	if err != nil {
		panic(err)
	}
	return cat
}

func textArg(name, def string, values ...string) metadata.Argument {
	return metadata.Argument{Name: name, Type: metadata.TypeText, Default: def, HasDefault: true, Values: values}
}

func playerStats() *metadata.Table {
	return &metadata.Table{
		Name:    "playerStats",
		Version: "1.0",
		Source:  metadata.Source{Kind: metadata.SourceTable, Name: "playerStats"},
		Joins: []*metadata.Join{
			{Name: "country", TargetName: "country", Cardinality: metadata.ToOne,
				On: "{{$country_id}} = {{country.$id}}"},
			{Name: "player", TargetName: "player", Cardinality: metadata.ToOne,
				On: "{{$player_id}} = {{player.$id}}"},
			{Name: "rate", TargetName: "rates", Cardinality: metadata.ToOne,
				On: "{{$recordedDate}} = {{rate.$day}} AND {{rate.$currency}} = '{{$$column.args.currency}}'"},
		},
		Columns: []*metadata.Column{
			{Name: "id", Kind: metadata.KindDimension, Type: metadata.TypeID},
			{Name: "highScore", Kind: metadata.KindMetric, Type: metadata.TypeInteger, Aggregation: metadata.AggMax},
			{Name: "lowScore", Kind: metadata.KindMetric, Type: metadata.TypeInteger, Aggregation: metadata.AggMin},
			{Name: "scoreRange", Kind: metadata.KindMetric, Type: metadata.TypeInteger,
				Formula: "{{highScore}} - {{lowScore}}"},
			{Name: "convertedHighScore", Kind: metadata.KindMetric, Type: metadata.TypeDecimal, Aggregation: metadata.AggSum,
				Formula:   "{{$highScore}} * {{rate.$rate}}",
				Arguments: []metadata.Argument{textArg("currency", "USD")}},
			{Name: "overallRating", Kind: metadata.KindDimension, Type: metadata.TypeText},
			{Name: "ratingTier", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Values: []string{"Bronze", "Silver", "Gold"}},
			{Name: "playerLevel", Kind: metadata.KindDimension, Type: metadata.TypeInteger,
				Formula: "CASE WHEN {{overallRating}} = 'Good' THEN 1 ELSE 2 END"},
			{Name: "countryIsoCode", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula: "{{country.isoCode}}"},
			{Name: "countryName", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula: "{{country.name}}"},
			{Name: "countryIsInUsa", Kind: metadata.KindDimension, Type: metadata.TypeBoolean,
				Formula: "{{country.inUsa}}"},
			{Name: "countryLabel", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula:   "{{country.label}}",
				Arguments: []metadata.Argument{textArg("format", "lower", "upper", "lower")}},
			{Name: "countryLabelUpper", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula: "{{sql from='country' column='label[format:upper]'}}"},
			{Name: "playerName", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula: "{{player.name}}"},
			{Name: "conversionRate", Kind: metadata.KindDimension, Type: metadata.TypeDecimal,
				Formula: "{{rate.conversionRate}}",
				Arguments: []metadata.Argument{
					textArg("currency", "USD"),
					{Name: "precision", Type: metadata.TypeInteger, Default: "2", HasDefault: true},
				}},
			{Name: "recordedDate", Kind: metadata.KindTimeDimension, Type: metadata.TypeTime,
				Grains: []metadata.Grain{{Grain: metadata.GrainDay}, {Grain: metadata.GrainMonth}}},
			{Name: "updatedDate", Kind: metadata.KindTimeDimension, Type: metadata.TypeTime,
				Grains: []metadata.Grain{{Grain: metadata.GrainDay}}},
		},
	}
}

func country() *metadata.Table {
	return &metadata.Table{
		Name:    "country",
		Version: "1.0",
		Source:  metadata.Source{Kind: metadata.SourceTable, Name: "countries"},
		Columns: []*metadata.Column{
			{Name: "id", Kind: metadata.KindDimension, Type: metadata.TypeID},
			{Name: "isoCode", Kind: metadata.KindDimension, Type: metadata.TypeText},
			{Name: "name", Kind: metadata.KindDimension, Type: metadata.TypeText},
			{Name: "inUsa", Kind: metadata.KindDimension, Type: metadata.TypeBoolean,
				Formula: "{{name}} = 'United States'"},
			{Name: "label", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula:   "CASE WHEN '{{$$column.args.format}}' = 'upper' THEN UPPER({{$name}}) ELSE LOWER({{$name}}) END",
				Arguments: []metadata.Argument{textArg("format", "lower", "upper", "lower")}},
		},
	}
}

func player() *metadata.Table {
	return &metadata.Table{
		Name:    "player",
		Version: "1.0",
		Source:  metadata.Source{Kind: metadata.SourceTable, Name: "players"},
		Joins: []*metadata.Join{
			{Name: "stats", TargetName: "playerStats", Cardinality: metadata.ToMany,
				On: "{{$id}} = {{stats.$player_id}}"},
		},
		Columns: []*metadata.Column{
			{Name: "id", Kind: metadata.KindDimension, Type: metadata.TypeID},
			{Name: "name", Kind: metadata.KindDimension, Type: metadata.TypeText},
			{Name: "rating", Kind: metadata.KindDimension, Type: metadata.TypeText,
				Formula: "{{stats.overallRating}}"},
			{Name: "playerCount", Kind: metadata.KindMetric, Type: metadata.TypeInteger,
				Aggregation: metadata.AggCount, Formula: "{{$id}}"},
			{Name: "totalHighScore", Kind: metadata.KindMetric, Type: metadata.TypeInteger,
				Aggregation: metadata.AggSum, Formula: "{{stats.$highScore}}"},
			{Name: "averageHighScore", Kind: metadata.KindMetric, Type: metadata.TypeDecimal,
				Aggregation: metadata.AggAvg, Formula: "{{stats.$highScore}}"},
		},
	}
}

func rates() *metadata.Table {
	return &metadata.Table{
		Name:   "rates",
		Source: metadata.Source{Kind: metadata.SourceTable, Name: "exchange_rates"},
		Columns: []*metadata.Column{
			{Name: "conversionRate", Kind: metadata.KindDimension, Type: metadata.TypeDecimal,
				Formula: "ROUND({{$rate}}, {{$$column.args.precision}})",
				Arguments: []metadata.Argument{
					{Name: "precision", Type: metadata.TypeInteger, Default: "2", HasDefault: true},
				}},
		},
	}
}

func filteredStats() *metadata.Table {
	return &metadata.Table{
		Name:    "filteredStats",
		Version: "2",
		Source: metadata.Source{Kind: metadata.SourceSQL,
			SQL: "SELECT * FROM playerStats WHERE overallRating <> '{{$$table.args.excludeRating}}'"},
		Arguments: []metadata.Argument{textArg("excludeRating", "Terrible")},
		Columns: []*metadata.Column{
			{Name: "highScore", Kind: metadata.KindMetric, Type: metadata.TypeInteger, Aggregation: metadata.AggMax},
			{Name: "overallRating", Kind: metadata.KindDimension, Type: metadata.TypeText},
		},
	}
}
