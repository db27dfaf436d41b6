package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/itam/internal/adapter/storage"
	"github.com/rl1809/itam/internal/core/domain"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Users []struct {
		ID         string `yaml:"id"`
		EmployeeNo string `yaml:"employee_no"`
		Name       string `yaml:"name"`
		Email      string `yaml:"email"`
		Active     *bool  `yaml:"active"`
		ResignDate string `yaml:"resign_date"`
	} `yaml:"users"`
	Locations []struct {
		ID   string `yaml:"id"`
		Code string `yaml:"code"`
		Name string `yaml:"name"`
	} `yaml:"locations"`
	Categories []struct {
		ID               string `yaml:"id"`
		Code             string `yaml:"code"`
		Name             string `yaml:"name"`
		UsefulLifeMonths int    `yaml:"useful_life_months"`
	} `yaml:"categories"`
	EOS []struct {
		ID          string `yaml:"id"`
		ProductName string `yaml:"product_name"`
		EOSDate     string `yaml:"eos_date"`
	} `yaml:"eos"`
}

func loadSeedFile(path string) (storage.MasterData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return storage.MasterData{}, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return storage.MasterData{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f.masterData()
}

func (f seedFile) masterData() (storage.MasterData, error) {
	var data storage.MasterData
	for _, u := range f.Users {
		resign, err := domain.ParseDate(u.ResignDate)
		if err != nil {
			return data, fmt.Errorf("user %s: %w", u.ID, err)
		}
		// Users are active unless the file says otherwise.
		active := u.Active == nil || *u.Active
		data.Users = append(data.Users, domain.User{
			ID: u.ID, EmployeeNo: u.EmployeeNo, Name: u.Name, Email: u.Email, Active: active, ResignDate: resign,
		})
	}
	for _, l := range f.Locations {
		data.Locations = append(data.Locations, domain.Location{ID: l.ID, Code: l.Code, Name: l.Name})
	}
	for _, c := range f.Categories {
		data.Categories = append(data.Categories, domain.Category{
			ID: c.ID, Code: c.Code, Name: c.Name, UsefulLifeMonths: c.UsefulLifeMonths,
		})
	}
	for _, e := range f.EOS {
		date, err := domain.ParseDate(e.EOSDate)
		if err != nil {
			return data, fmt.Errorf("eos %s: %w", e.ID, err)
		}
		data.EOS = append(data.EOS, domain.EOSInfo{ID: e.ID, ProductName: e.ProductName, EOSDate: date})
	}
	return data, nil
}
