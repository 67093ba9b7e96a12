package fieldmeta

func builtinFields() []*Field {
	return []*Field{
		{
			Key: "authors", Name: "Authors", Datatype: Text, Kind: ManyMany,
			IsMultiple: namesMultiple, IsCategory: true, IsEditable: true,
			Table: "authors", LinkColumn: "author",
			SearchTerms: []string{"authors", "author"},
			Display:     map[string]any{"category_sort": "sort"},
		},
		{
			Key: "languages", Name: "Languages", Datatype: Text, Kind: ManyMany,
			IsMultiple: tagsMultiple, IsCategory: true, IsEditable: true,
			Table: "languages", LinkColumn: "lang_code",
			SearchTerms: []string{"languages", "language"},
		},
		{
			Key: "series", Name: "Series", Datatype: Series, Kind: ManyOne,
			IsCategory: true, IsEditable: true,
			Table: "series", LinkColumn: "series",
			SearchTerms: []string{"series"},
		},
		{
			Key: "formats", Name: "Formats", Datatype: Text, Kind: FormatsKind,
			IsMultiple: tagsMultiple, IsCategory: true,
			SearchTerms: []string{"formats", "format"},
		},
		{
			Key: "publisher", Name: "Publisher", Datatype: Text, Kind: ManyOne,
			IsCategory: true, IsEditable: true,
			Table: "publishers", LinkColumn: "publisher",
			SearchTerms: []string{"publisher"},
		},
		{
			Key: "rating", Name: "Rating", Datatype: Rating, Kind: ManyOne,
			IsCategory: true, IsEditable: true,
			Table: "ratings", LinkColumn: "rating",
			SearchTerms: []string{"rating"},
		},
		{
			Key: "tags", Name: "Tags", Datatype: Text, Kind: ManyMany,
			IsMultiple: tagsMultiple, IsCategory: true, IsEditable: true,
			Table: "tags", LinkColumn: "tag",
			SearchTerms: []string{"tags", "tag"},
		},
		{
			Key: "identifiers", Name: "Identifiers", Datatype: Text, Kind: IdentifiersKind,
			IsMultiple: tagsMultiple, IsCategory: true, IsCSP: true, IsEditable: true,
			SearchTerms: []string{"identifiers", "identifier", "isbn"},
		},
		{
			Key: "author_sort", Name: "Author sort", Datatype: Text, Kind: OneOne,
			Column: "author_sort", IsEditable: true,
			SearchTerms: []string{"author_sort"},
		},
		{
			Key: "comments", Name: "Comments", Datatype: Comments, Kind: OneOne,
			IsEditable: true,
			SearchTerms: []string{"comments", "comment"},
		},
		{
			Key: "cover", Name: "Cover", Datatype: Bool, Kind: OneOne,
			Column: "has_cover",
			SearchTerms: []string{"cover"},
		},
		{
			Key: "id", Name: "Id", Datatype: Int, Kind: Virtual,
			SearchTerms: []string{"id"},
		},
		{
			Key: "last_modified", Name: "Modified", Datatype: Datetime, Kind: OneOne,
			Column: "last_modified", IsEditable: true,
			SearchTerms: []string{"last_modified"},
			Display:     map[string]any{"date_format": "dd MMM yyyy"},
		},
		{
			Key: "ondevice", Name: "On device", Datatype: Text, Kind: Virtual,
			SearchTerms: []string{"ondevice"},
		},
		{
			Key: "path", Name: "Path", Datatype: Text, Kind: OneOne,
			Column: "path",
			SearchTerms: []string{"path"},
		},
		{
			Key: "pubdate", Name: "Published", Datatype: Datetime, Kind: OneOne,
			Column: "pubdate", IsEditable: true,
			SearchTerms: []string{"pubdate"},
			Display:     map[string]any{"date_format": "MMM yyyy"},
		},
		{
			Key: "marked", Name: "Marked", Datatype: Text, Kind: Virtual,
			SearchTerms: []string{"marked"},
		},
		{
			Key: "series_index", Name: "Series index", Datatype: Float, Kind: OneOne,
			Column: "series_index", IsEditable: true,
			SearchTerms: []string{"series_index"},
		},
		{
			Key: "series_sort", Name: "Series sort", Datatype: Text, Kind: Virtual,
			SearchTerms: []string{"series_sort"},
		},
		{
			Key: "sort", Name: "Title sort", Datatype: Text, Kind: OneOne,
			Column: "sort", IsEditable: true,
			SearchTerms: []string{"title_sort"},
		},
		{
			Key: "size", Name: "Size", Datatype: Float, Kind: Virtual,
			SearchTerms: []string{"size"},
		},
		{
			Key: "timestamp", Name: "Date", Datatype: Datetime, Kind: OneOne,
			Column: "timestamp", IsEditable: true,
			SearchTerms: []string{"date"},
			Display:     map[string]any{"date_format": "dd MMM yyyy"},
		},
		{
			Key: "title", Name: "Title", Datatype: Text, Kind: OneOne,
			Column: "title", IsEditable: true,
			SearchTerms: []string{"title"},
		},
		{
			Key: "uuid", Name: "UUID", Datatype: Text, Kind: OneOne,
			Column: "uuid",
			SearchTerms: []string{"uuid"},
		},
	}
}
