package main

type config struct {
	Endpoint     string   `mapstructure:"endpoint"`
	PrimaryKey   string   `mapstructure:"primary_key"`
	SecondaryKey string   `mapstructure:"secondary_key"`
	Interval     string   `mapstructure:"interval"`
	Triggers     []string `mapstructure:"triggers"`
	FileIDs      []string `mapstructure:"file_ids"`
	FolderIDs    []string `mapstructure:"folder_ids"`
}
