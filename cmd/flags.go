package cmd

import (
	"reflect"

	"github.com/smazurov/ueventd/internal/config"
	"github.com/spf13/cobra"
)

// bindFlags registers one pflag per exported Options field, named via
// config.FieldNameToFlag so cmd.Flags().Changed matches the same name
// config.LoadConfig checks when deciding whether env/file may override
// it. Only the kinds Options actually uses are handled.
func bindFlags(c *cobra.Command, opts *Options) {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		name := config.FieldNameToFlag(t.Field(i).Name)
		usage := t.Field(i).Tag.Get("usage")

		switch field.Kind() {
		case reflect.String:
			c.Flags().StringVar(field.Addr().Interface().(*string), name, field.String(), usage)
		case reflect.Int:
			c.Flags().IntVar(field.Addr().Interface().(*int), name, int(field.Int()), usage)
		case reflect.Bool:
			c.Flags().BoolVar(field.Addr().Interface().(*bool), name, field.Bool(), usage)
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				c.Flags().StringSliceVar(field.Addr().Interface().(*[]string), name, field.Interface().([]string), usage)
			}
		}
	}
}
